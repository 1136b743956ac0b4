// Package platform wraps the host facts and OS utilities the permission
// editors depend on: privilege, kernel version, user lookup, subprocesses,
// the hardware UUID, and code-signing identity.
package platform
