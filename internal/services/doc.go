// Package services implements the execution backends behind export tasks.
//
// # Backends
//
// Every task names a [models.BackendKind]; the [Registry] maps each kind to a [Backend]:
//   - [SQLBackend] : runs a parameterized query and writes the result as TSV
//   - [MongoBackend] : runs mongoexport with a bound query filter
//   - [AdminBackend] : runs a platform administration command, optionally through sudo
//   - [RemoteCopyBackend] : copies a file produced by the upstream pipeline after checking its success marker
//
// Backends receive an [Invocation] carrying the resolved output filename, a private copy of the execution context
// and the bound template parameters. Templates use {name} placeholders (see [shared.Bind]); backends that implement
// [Validator] let the runner reject a batch with missing parameters before anything runs.
//
// # Errors
//
// Backends return errors wrapping [shared.ErrFatal] when the whole batch must stop (missing executable, missing
// success marker). Any other error is treated as a failure of that task alone.
//
// # Dry Run
//
// With the context's DryRun flag set, backends log what they would run and write nothing.
package services
