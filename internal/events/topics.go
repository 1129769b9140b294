package events

// Topic constants for domain events emitted by the service.
const (
	TopicSessionCreated         = "session.created"
	TopicSessionAuthenticated   = "session.authenticated"
	TopicSessionDeauthenticated = "session.deauthenticated"
	TopicDocumentsReplaced      = "session.documents_replaced"
	TopicOptionsChanged         = "session.options_changed"
	TopicPriceRecomputed        = "session.price_recomputed"
	TopicMerchantSelected       = "session.merchant_selected"
	TopicSessionReset           = "session.reset"
	TopicMerchantSignedIn       = "session.merchant_signed_in"
	TopicMerchantSignedOut      = "session.merchant_signed_out"

	TopicCheckoutOrderCreated    = "checkout.order_created"
	TopicCheckoutOpened          = "checkout.opened"
	TopicCheckoutVerifyRejected  = "checkout.verification_rejected"
	TopicCheckoutPaymentVerified = "checkout.payment_verified"
	TopicCheckoutFinalized       = "checkout.finalized"
	TopicCheckoutAbandoned       = "checkout.abandoned"
	TopicCheckoutFailed          = "checkout.failed"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicSessionCreated,
		TopicSessionAuthenticated,
		TopicSessionDeauthenticated,
		TopicDocumentsReplaced,
		TopicOptionsChanged,
		TopicPriceRecomputed,
		TopicMerchantSelected,
		TopicSessionReset,
		TopicMerchantSignedIn,
		TopicMerchantSignedOut,
		TopicCheckoutOrderCreated,
		TopicCheckoutOpened,
		TopicCheckoutVerifyRejected,
		TopicCheckoutPaymentVerified,
		TopicCheckoutFinalized,
		TopicCheckoutAbandoned,
		TopicCheckoutFailed,
	}
}
