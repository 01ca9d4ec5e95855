// Package jobqueue submits realization jobs to a driver and reports their
// progress as step events.
//
// Each job is submitted with capped exponential backoff. Only transient
// submission failures are retried; a permanent one fails the step at once.
// Once submitted, the job is polled until it finishes. Every job leaves a
// SubmitRecord describing how its submission went.
package jobqueue
