// Package auth protects the local API.
//
// There is a single operator account configured in security.admin. Its
// password is stored only as an Argon2id PHC hash, produced by
// `levitonbridge hash-password`. A successful login returns a short-lived
// HS256 JWT that the API validates by signature on every request.
package auth
