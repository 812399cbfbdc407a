// Package model provides the data structures for the pipeline package.
// It defines the step definitions, queues, samples and the argument value
// representation used to detect references between steps.
package model
