// Package testutil holds test doubles shared by the dispatch and ingress tests.
//
// RecordingRecipient is an envelope.Recipient that keeps every message it is
// told, can be made to fail, and lets a test wait for a number of deliveries.
package testutil
