// Package rate implements fixed-window Redis rate limiting for login and
// refresh attempts.
package rate
