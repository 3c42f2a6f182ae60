package model

import (
	"github.com/username/cryptofolio/backend/src/models"
)

const jobColumns = `id, account_id, name, description, priority, status, trigger_by, created_at, started_at, completed_at, duration, error_message`

// InsertJob persists a freshly enqueued job row.
func InsertJob(db DBTX, job models.Job) error {
	_, err := db.Exec(`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.AccountID, job.Name, job.Description, job.Priority,
		job.Status, job.Trigger, job.CreatedAt,
		job.StartedAt, job.CompletedAt, job.Duration, job.ErrorMessage)
	return err
}

// MarkJobRunning transitions a job to running and stamps started_at.
func MarkJobRunning(db DBTX, jobID string, startedAt int64) error {
	_, err := db.Exec(`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		models.JobStatusRunning, startedAt, jobID)
	return err
}

// MarkJobTerminal records a terminal state with completion time, duration
// and optional error message.
func MarkJobTerminal(db DBTX, jobID string, status models.JobStatus, completedAt int64, duration *int64, errorMessage *string) error {
	_, err := db.Exec(`UPDATE jobs SET status = ?, completed_at = ?, duration = ?, error_message = ? WHERE id = ?`,
		status, completedAt, duration, errorMessage, jobID)
	return err
}

// RecoverStaleJobs force-transitions jobs left over from a previous process:
// running jobs are presumed crashed and become aborted, queued jobs become
// cancelled. Returns the number of rows touched.
func RecoverStaleJobs(db DBTX, restartedAt int64) (int64, error) {
	msg := "process restarted while job was pending"
	res, err := db.Exec(`UPDATE jobs SET status = ?, completed_at = ?, error_message = ? WHERE status = ?`,
		models.JobStatusAborted, restartedAt, msg, models.JobStatusRunning)
	if err != nil {
		return 0, err
	}
	aborted, _ := res.RowsAffected()
	res, err = db.Exec(`UPDATE jobs SET status = ?, completed_at = ?, error_message = ? WHERE status = ?`,
		models.JobStatusCancelled, restartedAt, msg, models.JobStatusQueued)
	if err != nil {
		return aborted, err
	}
	cancelled, _ := res.RowsAffected()
	return aborted + cancelled, nil
}

// GetJobsByAccount lists jobs newest first.
func GetJobsByAccount(db DBTX, accountID int64, limit int) ([]models.Job, error) {
	rows, err := db.Query(`SELECT `+jobColumns+` FROM jobs WHERE account_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(
			&j.ID, &j.AccountID, &j.Name, &j.Description, &j.Priority,
			&j.Status, &j.Trigger, &j.CreatedAt,
			&j.StartedAt, &j.CompletedAt, &j.Duration, &j.ErrorMessage,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetJobStatus returns the persisted status of one job.
func GetJobStatus(db DBTX, jobID string) (models.JobStatus, error) {
	var status models.JobStatus
	err := db.QueryRow(`SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	return status, err
}

// AppendJobLog appends one timestamped line to a job's progress log.
func AppendJobLog(db DBTX, jobID string, timestamp int64, line string) error {
	_, err := db.Exec(`INSERT INTO job_logs (job_id, timestamp, line) VALUES (?, ?, ?)`, jobID, timestamp, line)
	return err
}

// GetJobLogs returns the full progress log of one job in append order.
func GetJobLogs(db DBTX, jobID string) ([]models.JobLogLine, error) {
	rows, err := db.Query(`SELECT job_id, timestamp, line FROM job_logs WHERE job_id = ? ORDER BY timestamp ASC, rowid ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []models.JobLogLine
	for rows.Next() {
		var l models.JobLogLine
		if err := rows.Scan(&l.JobID, &l.Timestamp, &l.Line); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
