package e2e

// e2e contains integration tests and utility code required to set up
// dependencies. The tests here assemble the gateway the same way main.go
// does, with an in-process SMTP server standing in for the recipient's
// mail exchanger, and drive it through its HTTP API.
