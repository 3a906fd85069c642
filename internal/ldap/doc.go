/*
Package ldap provides the directory entry model shared by the ldifdiff
packages, and a reader for snapshots held by a live directory server.

# Entry Model

An Entry is a DN plus its attributes, keyed by the canonical attribute key
a Schema assigns. Values keep their first-seen spelling and order, and are
compared by the match key the Schema derives for them:

  - DN: parsed with go-ldap, compared by canonical RDNs, ordered parents first
  - Attribute: an ordered set of values with per-value match keys
  - EntryBuilder: turns go-ldap entries into Entries, merging repeated types
  - Modification: one add, delete or replace of values in a change record

Operational attributes are kept apart from user attributes. They are shown
for reference but never compared.

# Errors

OperationError carries a category and the LDAP result code reported to the
caller as the process exit code. Decode, encode and validation failures use
the client-side codes of RFC 4511. Outside validation, a go-ldap *ldap.Error
in the chain contributes its own code.

# Directory Snapshots

OpenDirectory reads a snapshot through an RFC 4516 LDAP URL:

	ldaps://dc1.example.com/ou=people,dc=example,dc=com?cn,mail?sub?(objectClass=person)

Servers are named by the URL or discovered through SRV records. The Client
keeps a small connection pool with health checks and retries transient
failures with exponential backoff. Binds may be anonymous, simple, Kerberos
(GSSAPI) or external (TLS client certificate). Results are read with the
simple paged results control, one page at a time.

# Logging

Logger is a small structured logging interface. NewHCLogger adapts an
hclog.Logger to it.
*/
package ldap
