package message

// message defines the mail message accepted by the HTTP API: the addressing
// fields, the ordered list of body parts (inline text and base64 attachments),
// and the per-message delivery knobs. It owns validation and the filling of
// configured defaults, but is not concerned with MIME encoding or SMTP --
// that's the mailer's job.
