// Package hcl loads evaluation configuration written in HCL and translates
// it into the format-agnostic config.Model.
//
// Expressions are evaluated with an `env` object holding the process
// environment, so a file can say `token = env.ENSEMBLETRACK_TOKEN`.
package hcl
