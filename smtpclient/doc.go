package smtpclient

// smtpclient speaks the client side of SMTP to recipient mail exchangers.
// It covers the transport mechanics of a delivery: dialing (directly or
// through a socks5/http proxy), the EHLO exchange, the opportunistic
// STARTTLS upgrade, and handing over one message. Deciding which hosts to
// try and in what order is the mailer's business, not ours.
