// Package notifier delivers listing announcements to the operator's chat.
//
// Announcements are produced by the scrape task, one per newly stored
// listing, and flow through a bounded queue drained by supervised workers.
// A token bucket keeps the send rate under the chat platform's per-minute
// quota; transient delivery failures are retried with jittered exponential
// backoff. The queue never blocks producers: when it is full the message is
// dropped and an event is published instead.
//
// # Transport
//
// Delivery goes through the Sender interface so the pipeline stays
// independent of the messaging platform; the telegram package provides the
// production implementation and NopSender stands in everywhere else.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recently delivered announcements, served by the ops status page.
package notifier
