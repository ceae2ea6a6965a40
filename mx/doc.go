package mx

// mx resolves the mail exchangers of a recipient domain. The production
// resolver asks Google Public DNS over HTTPS rather than the host's stub
// resolver: the gateway usually runs in a container with whatever /etc/
// resolv.conf the runtime injected, and the DoH endpoint behaves the same
// everywhere.
