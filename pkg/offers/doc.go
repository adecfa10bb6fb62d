// Package offers names the contracts of the offer-layer collaborator: the
// two-level scheduler that provides resource offers, launches and kills
// tasks and answers reconciliation requests. The matching algorithm itself
// lives behind these interfaces.
package offers
