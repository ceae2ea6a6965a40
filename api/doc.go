package api

// api is the HTTP face of the gateway: it accepts mail-send requests, hands
// them to the mailer, and serves the per-message delivery records back to
// clients.
