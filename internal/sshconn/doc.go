// sshconn connects the session to freshly booted droplets over SSH. It
// wraps 'x/crypto/ssh' and 'pkg/sftp' behind a small surface:
//   - ED25519 session key generation, conversion and marshaling
//   - connection dialing that tolerates the droplet boot window
//   - command execution, with and without privilege escalation
//   - file staging over SFTP
//
// NOTE: ALL errors returned by this package will be wrapped with well-known (
// 'errors.Is(...') errors.
package sshconn
