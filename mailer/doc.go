package mailer

// mailer turns accepted API messages into delivered email. For each message
// it resolves the recipient domain's mail exchangers, renders the MIME
// message, signs it when DKIM is configured, and walks the exchangers in
// preference order until one takes it. The Dispatcher runs these deliveries
// in the background with a cap on how many go at once.
