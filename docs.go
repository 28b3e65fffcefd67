/*
Package teaclave_client implements a client SDK for the Teaclave
confidential multi-party computation platform, following the flow of
the official Teaclave client SDKs:

https://github.com/apache/incubator-teaclave/tree/master/sdk

There are two kinds of sessions. An AuthenticationSession talks to the
authentication service and is used to register users and log them in.
A FrontendSession talks to the frontend service; after binding a
credential (user id + token from login) it drives the task lifecycle:
register a function, create a task, register input and output files,
assign them to the task slots, approve, invoke, and fetch the result.

Every operation is a single round trip over a Channel, which the
caller obtains from a Dialer. GRPCDialer is the stock implementation;
attestation of the remote enclave is delegated to an
AttestationVerifier supplied by the caller. The task state lives on
the server only. A task owned by several users needs one
FrontendSession per user, and the SessionManager keeps those around
for multi-party workflows.

Sessions, the gRPC endpoints and logging can be configured with a
YAML or JSON (comments allowed) configuration file, see
ReadConfiguration.
*/
package teaclave_client
