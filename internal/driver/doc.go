// Package driver is the contract between the job queue and the backends that
// actually run forward models.
//
// A Driver submits a JobSpec and returns an opaque Handle, reports the
// coarse Status of a handle, and kills it on a best-effort basis. Submission
// failures are classified: a *SubmitError with ClassTransient (the backend
// is busy or briefly unreachable) may be retried, ClassPermanent (the job
// can never be submitted as specified) must not be.
//
// Two backends are provided. Local runs jobs as child processes on this
// machine, bounded by a weighted semaphore. Shell drives any cluster
// scheduler through its command-line tools; the LSF and Torque presets
// configure it for bsub/bjobs/bkill and qsub/qstat/qdel.
package driver
