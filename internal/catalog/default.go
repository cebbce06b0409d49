package catalog

import "github.com/desertthunder/exporter/internal/models"

// Default returns the catalog of every task exported for an organization.
//
// Order matters: it is the order tasks run in and the order of the artifacts they produce.
func Default() *Catalog {
	return MustNew(defaultTasks()...)
}

func defaultTasks() []models.Descriptor {
	return []models.Descriptor{
		courseQuery("UserIDMapTask", "user_id_map", `
			SELECT CAST(md5(concat('{secret_key}', au0.id)) AS CHAR) hash_id,
			       au0.id,
			       au0.username
			FROM {sql_db}.auth_user au0
			WHERE au0.id IN
			    (SELECT DISTINCT(auth_user.id) USER_ID
			     FROM {sql_db}.auth_user
			     INNER JOIN student_courseenrollment ON {sql_db}.student_courseenrollment.USER_ID = auth_user.id
			     WHERE course_id='{course}')
		`),
		remoteCopy("StudentModuleTask", "courseware_studentmodule", "sql"),
		courseQuery("TeamsTask", "teams", `
			SELECT *
			FROM teams_courseteam
			WHERE teams_courseteam.course_id='{course}'
		`),
		courseQuery("TeamsMembershipTask", "teams_membership", `
			SELECT teams_courseteammembership.*
			FROM teams_courseteam
			INNER JOIN teams_courseteammembership
			ON teams_courseteam.id=teams_courseteammembership.team_id
			WHERE teams_courseteam.course_id='{course}'
		`),
		courseQuery("CourseEnrollmentTask", "student_courseenrollment", `
			SELECT *
			FROM student_courseenrollment
			WHERE course_id='{course}'
		`),
		courseQuery("CourseGradesTask", "grades_persistentcoursegrade", `
			SELECT course_id,
			       user_id,
			       grading_policy_hash,
			       percent_grade,
			       letter_grade,
			       passed_timestamp,
			       created,
			       modified
			FROM grades_persistentcoursegrade
			WHERE grades_persistentcoursegrade.course_id='{course}'
			ORDER BY grades_persistentcoursegrade.user_id
		`),
		courseQuery("SubsectionGradesTask", "grades_persistentsubsectiongrade", `
			SELECT course_id,
			       user_id,
			       usage_key,
			       earned_all,
			       possible_all,
			       earned_graded,
			       possible_graded,
			       first_attempted,
			       created,
			       modified
			FROM grades_persistentsubsectiongrade
			WHERE grades_persistentsubsectiongrade.course_id='{course}'
			ORDER BY grades_persistentsubsectiongrade.user_id,
			         grades_persistentsubsectiongrade.first_attempted
		`),
		courseQuery("GeneratedCertificateTask", "certificates_generatedcertificate", `
			SELECT *
			FROM certificates_generatedcertificate
			WHERE course_id='{course}'
		`),
		courseQuery("InCourseReverificationTask", "verify_student_verificationstatus", `
			SELECT vs.timestamp,
			       vs.status,
			       vc.course_id,
			       vc.checkpoint_location,
			       vs.user_id
			FROM verify_student_verificationstatus AS vs
			LEFT JOIN verify_student_verificationcheckpoint AS vc ON vs.checkpoint_id=vc.id
			WHERE vc.course_id='{course}'
			ORDER BY vs.timestamp ASC
		`),
		courseQuery("AuthUserTask", "auth_user", `
			SELECT auth_user.id,
			       auth_user.username,
			       auth_user.first_name,
			       auth_user.last_name,
			       auth_user.email,
			       '' AS password,
			       auth_user.is_staff,
			       auth_user.is_active,
			       auth_user.is_superuser,
			       auth_user.last_login,
			       auth_user.date_joined,
			       '' AS status,
			       NULL AS email_key,
			       '' AS avatar_type,
			       '' AS country,
			       0 AS show_country,
			       NULL AS date_of_birth,
			       '' AS interesting_tags,
			       '' AS ignored_tags,
			       0 AS email_tag_filter_strategy,
			       0 AS display_tag_filter_strategy,
			       0 AS consecutive_days_visit_count
			FROM auth_user
			INNER JOIN student_courseenrollment ON student_courseenrollment.user_id = auth_user.id
			AND student_courseenrollment.course_id = '{course}'
		`),
		courseQuery("AuthUserProfileTask", "auth_userprofile", `
			SELECT auth_userprofile.*
			FROM auth_userprofile
			INNER JOIN student_courseenrollment ON student_courseenrollment.user_id = auth_userprofile.user_id
			AND student_courseenrollment.course_id = '{course}'
		`),
		courseQuery("StudentLanguageProficiencyTask", "student_languageproficiency", `
			SELECT student_languageproficiency.*
			FROM student_languageproficiency
			INNER JOIN auth_userprofile ON auth_userprofile.id = student_languageproficiency.user_profile_id
			INNER JOIN student_courseenrollment ON student_courseenrollment.user_id = auth_userprofile.user_id
			AND student_courseenrollment.course_id = '{course}'
		`),
		courseQuery("WikiArticleTask", "wiki_article", `
			SELECT a.*
			FROM {sql_db}.wiki_article AS a
			WHERE a.id IN
			    (SELECT node.id
			     FROM {sql_db}.wiki_urlpath AS node,
			          {sql_db}.wiki_urlpath AS parent
			     WHERE node.lft BETWEEN parent.lft AND parent.rght
			       AND parent.slug = '{slug}'
			     ORDER BY node.lft)
		`),
		courseQuery("WikiArticleRevisionTask", "wiki_articlerevision", `
			SELECT ar.*
			FROM {sql_db}.wiki_articlerevision AS ar
			WHERE ar.article_id IN
			    (SELECT a.id
			     FROM {sql_db}.wiki_article AS a
			     WHERE a.id IN
			         (SELECT node.id
			          FROM {sql_db}.wiki_urlpath AS node,
			               {sql_db}.wiki_urlpath AS parent
			          WHERE node.lft BETWEEN parent.lft AND parent.rght
			            AND parent.slug = '{slug}'
			          ORDER BY node.lft))
			ORDER BY article_id,
			         revision_number
		`),
		courseQuery("UserCourseTagTask", "user_api_usercoursetag", `
			SELECT *
			FROM user_api_usercoursetag
			WHERE course_id='{course}'
		`),
		forums(),
		courseStructure(),
		courseContent(),
		courseQuery("CourseRoleTask", "student_courseaccessrole", `
			SELECT org, course_id, user_id, role from student_courseaccessrole
			where course_id='{course}'
		`),
		courseQuery("ForumRoleTask", "django_comment_client_role_users", `
			select dccr.course_id, dccru.user_id, dccr.name
			from django_comment_client_role as dccr
			join django_comment_client_role_users as dccru
			on dccr.id=dccru.role_id
			where dccr.course_id='{course}'
		`),
		emailOptIn(),
		oraQuery("AssessmentAssessmentTask", "assessment_assessment", `
			SELECT a.* FROM assessment_assessment AS a
			LEFT JOIN submissions_submission AS s ON a.submission_uuid=s.uuid
			LEFT JOIN submissions_studentitem AS si ON s.student_item_id=si.id
			WHERE si.course_id="{course}"
		`),
		oraQuery("AssessmentAssessmentFeedbackTask", "assessment_assessmentfeedback", `
			SELECT DISTINCT af.* FROM assessment_assessmentfeedback AS af
			LEFT JOIN assessment_assessmentfeedback_assessments AS afa
			       ON af.id=afa.assessmentfeedback_id
			LEFT JOIN assessment_assessment AS a ON afa.assessment_id=a.id
			LEFT JOIN submissions_submission AS s ON a.submission_uuid=s.uuid
			LEFT JOIN submissions_studentitem AS si ON s.student_item_id=si.id
			WHERE si.course_id="{course}"
		`),
		oraQuery("AssessmentAssessmentFeedbackAssessmentsTask", "assessment_assessmentfeedback_assessments", `
			SELECT afa.* FROM assessment_assessmentfeedback_assessments AS afa
			LEFT JOIN assessment_assessment AS a ON afa.assessment_id=a.id
			LEFT JOIN submissions_submission AS s ON a.submission_uuid=s.uuid
			LEFT JOIN submissions_studentitem AS si ON s.student_item_id=si.id
			WHERE si.course_id="{course}"
		`),
		oraQuery("AssessmentAssessmentFeedbackOptionsTask", "assessment_assessmentfeedback_options", `
			SELECT DISTINCT afo.* FROM assessment_assessmentfeedback_options AS afo
			LEFT JOIN assessment_assessmentfeedback AS af ON afo.assessmentfeedback_id=af.id
			LEFT JOIN assessment_assessmentfeedback_assessments AS afa
			       ON af.id=afa.assessmentfeedback_id
			LEFT JOIN assessment_assessment AS a ON afa.assessment_id=a.id
			LEFT JOIN submissions_submission AS s ON a.submission_uuid=s.uuid
			LEFT JOIN submissions_studentitem AS si ON s.student_item_id=si.id
			WHERE si.course_id="{course}"
		`),
		oraQuery("AssessmentAssessmentFeedbackOptionTask", "assessment_assessmentfeedbackoption", `
			SELECT DISTINCT aafo.* FROM assessment_assessmentfeedbackoption as aafo
			LEFT JOIN assessment_assessmentfeedback_options AS afo
			       ON aafo.id=afo.assessmentfeedbackoption_id
			LEFT JOIN assessment_assessmentfeedback AS af ON afo.assessmentfeedback_id=af.id
			LEFT JOIN assessment_assessmentfeedback_assessments AS afa
			       ON af.id=afa.assessmentfeedback_id
			LEFT JOIN assessment_assessment AS a ON afa.assessment_id=a.id
			LEFT JOIN submissions_submission AS s ON a.submission_uuid=s.uuid
			LEFT JOIN submissions_studentitem AS si ON s.student_item_id=si.id
			WHERE si.course_id="{course}"
		`),
		oraQuery("AssessmentAssessmentPartTask", "assessment_assessmentpart", `
			SELECT ap.* FROM assessment_assessmentpart AS ap
			LEFT JOIN assessment_assessment AS a ON ap.assessment_id=a.id
			LEFT JOIN submissions_submission AS s ON a.submission_uuid=s.uuid
			LEFT JOIN submissions_studentitem AS si ON s.student_item_id=si.id
			WHERE si.course_id="{course}"
		`),
		oraQuery("AssessmentCriterionTask", "assessment_criterion", `
			SELECT c.* FROM assessment_criterion AS c
			WHERE c.rubric_id IN (
			    SELECT DISTINCT rub.id FROM assessment_rubric AS rub
			        LEFT JOIN assessment_assessment AS a ON rub.id=a.rubric_id
			        LEFT JOIN submissions_submission AS s ON a.submission_uuid=s.uuid
			        LEFT JOIN submissions_studentitem AS si ON s.student_item_id=si.id
			        WHERE si.course_id="{course}"
			    UNION
			    SELECT DISTINCT rub.id FROM assessment_rubric AS rub
			        LEFT JOIN assessment_trainingexample AS te ON rub.id=te.rubric_id
			        LEFT JOIN assessment_aitrainingworkflow_training_examples AS ate
			               ON te.id=ate.trainingexample_id
			        LEFT JOIN assessment_aitrainingworkflow AS tw
			               ON ate.aitrainingworkflow_id=tw.id
			        WHERE tw.course_id="{course}"
			    UNION
			    SELECT DISTINCT rub.id FROM assessment_rubric AS rub
			        LEFT JOIN assessment_aigradingworkflow AS aigw ON rub.id=aigw.rubric_id
			        WHERE aigw.course_id="{course}"
			    UNION
			    SELECT DISTINCT rub.id FROM assessment_rubric AS rub
			        LEFT JOIN assessment_aiclassifierset AS acs ON rub.id=acs.rubric_id
			        WHERE acs.course_id="{course}")
		`),
		oraQuery("AssessmentCriterionOptionTask", "assessment_criterionoption", `
			SELECT co.* FROM assessment_criterionoption AS co
			WHERE co.criterion_id IN (
			    SELECT c.id FROM assessment_criterion AS c
			    WHERE c.rubric_id IN (
			        SELECT DISTINCT rub.id FROM assessment_rubric AS rub
			            LEFT JOIN assessment_assessment AS a ON rub.id=a.rubric_id
			            LEFT JOIN submissions_submission AS s ON a.submission_uuid=s.uuid
			            LEFT JOIN submissions_studentitem AS si ON s.student_item_id=si.id
			            WHERE si.course_id="{course}"
			        UNION
			        SELECT DISTINCT rub.id FROM assessment_rubric AS rub
			            LEFT JOIN assessment_trainingexample AS te ON rub.id=te.rubric_id
			            LEFT JOIN assessment_aitrainingworkflow_training_examples AS ate
			                   ON te.id=ate.trainingexample_id
			            LEFT JOIN assessment_aitrainingworkflow AS tw
			                   ON ate.aitrainingworkflow_id=tw.id
			            WHERE tw.course_id="{course}"
			        UNION
			        SELECT DISTINCT rub.id FROM assessment_rubric AS rub
			            LEFT JOIN assessment_aigradingworkflow AS aigw ON rub.id=aigw.rubric_id
			            WHERE aigw.course_id="{course}"
			        UNION
			            SELECT DISTINCT rub.id FROM assessment_rubric AS rub
			            LEFT JOIN assessment_aiclassifierset AS acs ON rub.id=acs.rubric_id
			            WHERE acs.course_id="{course}"))
		`),
		oraQuery("AssessmentPeerWorkflowTask", "assessment_peerworkflow", `
			SELECT * FROM assessment_peerworkflow
			WHERE course_id="{course}"
		`),
		oraQuery("AssessmentPeerWorkflowItemTask", "assessment_peerworkflowitem", `
			SELECT * FROM assessment_peerworkflowitem
			WHERE assessment_id IN (SELECT id FROM assessment_peerworkflow
			                  WHERE course_id="{course}")
		`),
		oraQuery("AssessmentRubricTask", "assessment_rubric", `
			SELECT DISTINCT rub.* FROM assessment_rubric AS rub
			    LEFT JOIN assessment_assessment AS a ON rub.id=a.rubric_id
			    LEFT JOIN submissions_submission AS s ON a.submission_uuid=s.uuid
			    LEFT JOIN submissions_studentitem AS si ON s.student_item_id=si.id
			    WHERE si.course_id="{course}"
			UNION
			SELECT DISTINCT rub.* FROM assessment_rubric AS rub
			    LEFT JOIN assessment_trainingexample AS te ON rub.id=te.rubric_id
			    LEFT JOIN assessment_aitrainingworkflow_training_examples AS ate
			           ON te.id=ate.trainingexample_id
			    LEFT JOIN assessment_aitrainingworkflow AS tw ON ate.aitrainingworkflow_id=tw.id
			    WHERE tw.course_id="{course}"
			UNION
			SELECT DISTINCT rub.* FROM assessment_rubric AS rub
			    LEFT JOIN assessment_aigradingworkflow AS aigw ON rub.id=aigw.rubric_id
			    WHERE aigw.course_id="{course}"
			UNION
			SELECT DISTINCT rub.* FROM assessment_rubric AS rub
			    LEFT JOIN assessment_aiclassifierset AS acs ON rub.id=acs.rubric_id
			    WHERE acs.course_id="{course}"
		`),
		oraQuery("AssessmentStudentTrainingWorkflow", "assessment_studenttrainingworkflow", `
			SELECT * FROM assessment_studenttrainingworkflow
			WHERE course_id="{course}"
		`),
		oraQuery("AssessmentStudentTrainingWorkflowItemTask", "assessment_studenttrainingworkflowitem", `
			SELECT * FROM assessment_studenttrainingworkflowitem
			WHERE workflow_id IN (SELECT id FROM assessment_studenttrainingworkflow
			                      WHERE course_id="{course}")
		`),
		oraQuery("AssessmentTrainingExampleTask", "assessment_trainingexample", `
			SELECT DISTINCT te.* FROM assessment_trainingexample AS te
			    LEFT JOIN assessment_aitrainingworkflow_training_examples AS ate
			           ON te.id=ate.trainingexample_id
			    LEFT JOIN assessment_aitrainingworkflow AS tw ON ate.aitrainingworkflow_id=tw.id
			    WHERE tw.course_id="{course}"
			UNION
			SELECT DISTINCT te.*  FROM assessment_trainingexample AS te
			    LEFT JOIN assessment_studenttrainingworkflowitem AS stwi
			           ON te.id=stwi.training_example_id
			    LEFT JOIN assessment_studenttrainingworkflow AS stw ON stwi.workflow_id=stw.id
			    WHERE stw.course_id="{course}"
		`),
		oraQuery("AssessmentTrainingExampleOptionsSelectedTask", "assessment_trainingexample_options_selected", `
			SELECT tos.* FROM assessment_trainingexample_options_selected AS tos
			WHERE tos.trainingexample_id IN (
			    SELECT DISTINCT te.id FROM assessment_trainingexample AS te
			        LEFT JOIN assessment_aitrainingworkflow_training_examples AS ate
			               ON te.id=ate.trainingexample_id
			        LEFT JOIN assessment_aitrainingworkflow AS tw
			               ON ate.aitrainingworkflow_id=tw.id
			        WHERE tw.course_id="{course}"
			    UNION
			    SELECT DISTINCT te.id  FROM assessment_trainingexample AS te
			        LEFT JOIN assessment_studenttrainingworkflowitem AS stwi
			               ON te.id=stwi.training_example_id
			        LEFT JOIN assessment_studenttrainingworkflow AS stw ON stwi.workflow_id=stw.id
			        WHERE stw.course_id="{course}")
		`),
		oraQuery("SubmissionsScoreTask", "submissions_score", `
			SELECT * FROM submissions_score
			WHERE student_item_id IN (SELECT id FROM submissions_studentitem
			                          WHERE course_id="{course}")
		`),
		oraQuery("SubmissionsScoreSummaryTask", "submissions_scoresummary", `
			SELECT * FROM submissions_scoresummary
			WHERE student_item_id IN (SELECT id FROM submissions_studentitem
			                          WHERE course_id="{course}")
		`),
		oraQuery("SubmissionsStudentItemTask", "submissions_studentitem", `
			SELECT * FROM submissions_studentitem
			WHERE course_id="{course}"
		`),
		oraQuery("SubmissionsSubmissionTask", "submissions_submission", `
			SELECT * FROM submissions_submission
			WHERE student_item_id IN (SELECT id FROM submissions_studentitem
			                          WHERE course_id="{course}")
		`),
		oraQuery("WorkflowAssessmentWorkflowTask", "workflow_assessmentworkflow", `
			SELECT * FROM workflow_assessmentworkflow
			WHERE course_id="{course}"
		`),
		oraQuery("WorkflowAssessmentWorkflowStepTask", "workflow_assessmentworkflowstep", `
			SELECT * FROM workflow_assessmentworkflowstep
			WHERE workflow_id IN (SELECT id FROM workflow_assessmentworkflow
			                      WHERE course_id="{course}")
		`),
		courseQuery("StudentAnonymousUserIDTask", "student_anonymoususerid", `
			SELECT * FROM student_anonymoususerid
			WHERE course_id="{course}"
		`),
		courseQuery("CourseCreditEligibilityTask", "credit_crediteligibility", `
			SELECT ce.id,
			       ce.created,
			       ce.modified,
			       ce.username,
			       ce.deadline,
			       cc.course_key as course_id
			FROM credit_crediteligibility AS ce
			LEFT JOIN credit_creditcourse AS cc on ce.course_id=cc.id
			WHERE cc.course_key='{course}'
			ORDER BY ce.username
		`),
	}
}

func courseQuery(name, table, sql string) models.Descriptor {
	return models.Descriptor{
		Name:      name,
		Table:     table,
		Scope:     models.ScopeCourse,
		Backend:   models.StructuredQuery,
		Extension: "sql",
		Template:  sql,
	}
}

// open response assessment tables live in their own subdirectory
func oraQuery(name, table, sql string) models.Descriptor {
	d := courseQuery(name, table, sql)
	d.Subdirectory = "ora"
	return d
}

func remoteCopy(name, table, ext string) models.Descriptor {
	return models.Descriptor{
		Name:      name,
		Table:     table,
		Scope:     models.ScopeCourse,
		Backend:   models.RemoteCopy,
		Extension: ext,
	}
}

func forums() models.Descriptor {
	return models.Descriptor{
		Name:      "ForumsTask",
		Scope:     models.ScopeCourse,
		Backend:   models.DocumentQuery,
		Extension: "mongo",
		Naming:    models.NamingByEnvironment,
		Template:  `{{"course_id": "{course}"}}`,
	}
}

func courseStructure() models.Descriptor {
	return models.Descriptor{
		Name:      "CourseStructureTask",
		Table:     "course_structure",
		Scope:     models.ScopeCourse,
		Backend:   models.AdminCommand,
		Extension: "json",
		Command:   "dump_course_structure",
		Args:      "{course}",
		Output:    "{filename}",
		Vars:      "CONFIG_ROOT={django_config} SERVICE_VARIANT=lms",
	}
}

func courseContent() models.Descriptor {
	return models.Descriptor{
		Name:        "CourseContentTask",
		Table:       "course",
		Scope:       models.ScopeCourse,
		Backend:     models.AdminCommand,
		Extension:   "xml.tar.gz",
		Command:     "export_olx",
		Args:        "{course}",
		Output:      "{filename}",
		Vars:        "CONFIG_ROOT={django_config} SERVICE_VARIANT=cms",
		SettingsKey: "django_cms_settings",
	}
}

func emailOptIn() models.Descriptor {
	return models.Descriptor{
		Name:        OptInTask,
		Table:       "email_opt_in",
		Scope:       models.ScopeOrganization,
		Backend:     models.AdminCommand,
		Extension:   "csv",
		Command:     "email_opt_in_list",
		Args:        "{all_organizations} --courses={comma_sep_courses}",
		Output:      "{filename}",
		OutputAsArg: true,
		Vars:        "CONFIG_ROOT={django_config} SERVICE_VARIANT=lms",
		MaxTries:    3,
	}
}
