package dkim

// dkim adds DKIM-Signature headers to outgoing messages. A Signer holds the
// sending domain's RSA private key; receiving servers look up the matching
// public key at "<selector>._domainkey.<domain>" to check that a message
// really left this host and arrived unaltered.
