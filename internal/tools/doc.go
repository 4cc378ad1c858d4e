// Package tools implements the privileged actions the assistant may invoke
// while composing a reply: container lifecycle control through the Docker
// engine and host metrics through Prometheus.
//
// The action set is closed. Each Kind carries its wire name, description,
// typed input and whether it needs an authorized caller; Gateway.Invoke
// dispatches on Kind with a switch. Every failure, including authorization
// failures, is returned as a result with Success set to false so the model
// can explain it. Invoke never returns a Go error.
package tools
