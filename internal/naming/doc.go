// Package naming turns a task and its scope into an artifact path.
//
// Names are built from the scope identity (organization, or org-course-run for a course key, with a ccx suffix for
// custom courses), the task's table name and the export name. Characters outside [A-Za-z0-9_.-] are replaced one
// rune at a time. Whenever that substitution is lossy or the name has to be truncated to fit the filesystem limit, a
// short digest of the unmodified stem is appended so that distinct inputs never share a filename.
package naming
