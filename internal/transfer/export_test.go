package transfer

// ExpireDeadline fires the job's deadline immediately.
func (j *Job) ExpireDeadline() { j.expire() }
