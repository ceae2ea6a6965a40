package tracker

// tracker is the paper trail for deliveries. Every accepted message gets a
// Record that follows it from the API through the mailer: components append
// timestamped events as they work, and the record's state settles on sent
// or error. Records write through to a storage.KeyValue so the status
// endpoint can answer for messages accepted before the last restart.
