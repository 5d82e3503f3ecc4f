// Package auth verifies the session tokens issued by the managed auth
// platform. The platform signs HS256 JWTs with a project-level shared
// secret; this service only verifies them and derives the request
// identity (user id and email). It never issues tokens.
package auth
