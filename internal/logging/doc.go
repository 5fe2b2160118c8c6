// Package logging builds the process logger.
package logging
