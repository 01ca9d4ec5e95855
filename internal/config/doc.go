// Package config defines the format-agnostic configuration model for an
// evaluation, along with the Loader interface implemented by concrete
// formats such as HCL.
//
// A Model is filled by a loader, then overridden from the environment with
// ApplyEnv, then checked with Validate. Everything downstream reads only the
// Model.
package config
