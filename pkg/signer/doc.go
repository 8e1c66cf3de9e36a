/*
Package signer provides the in-tree credential signer.

Ed25519Signer attaches an Ed25519Signature2020-style linked-data proof over
the credential's canonical JSON form. Issuance code depends only on the
narrow Signer interfaces declared by its consumers, so deployments can swap
in external signing suites.
*/
package signer
