// Package munge provides MUNGE credentials for on-premises services that
// authenticate callers with the X-Munge-Cred header.
//
// A Signer turns a payload into a credential. CommandSigner runs the
// munge(1) client against the local munged socket; StaticSigner returns a
// fixed credential for tests and hosts without MUNGE. Authenticator
// adapts a Signer to the request pipeline and signs a fresh credential
// for every request, since munged rejects replayed credentials.
package munge
