package contracts

// Message type discriminators.
const (
	// user-buyer-queue
	TypeAuth          = "auth"
	TypePurchasedGigs = "purchased-gigs"
	TypeCancelledGigs = "cancelled-gigs"

	// user-seller-queue
	TypeCreateOrder    = "create-order"
	TypeApproveOrder   = "approve-order"
	TypeUpdateGigCount = "update-gig-count"
	TypeCancelOrder    = "cancel-order"

	// seller-review-queue
	TypeBuyerReview = "buyer-review"

	// user-gig-queue and its response
	TypeGetSellers     = "getSellers"
	TypeReceiveSellers = "receiveSellers"

	// published to the gig service after a review
	TypeUpdateGig = "updateGig"
)

// Email template identifiers carried in the "template" field.
const (
	TemplateVerifyEmail            = "verifyEmail"
	TemplateForgotPassword         = "forgotPassword"
	TemplateResetPasswordSuccess   = "resetPasswordSuccess"
	TemplateOffer                  = "offer"
	TemplateOrderPlaced            = "orderPlaced"
	TemplateOrderReceipt           = "orderReceipt"
	TemplateOrderExtension         = "orderExtension"
	TemplateOrderExtensionApproval = "orderExtensionApproval"
	TemplateOrderDelivered         = "orderDelivered"
)

// Templates lists every template the notification service can render
func Templates() []string {
	return []string{
		TemplateVerifyEmail,
		TemplateForgotPassword,
		TemplateResetPasswordSuccess,
		TemplateOffer,
		TemplateOrderPlaced,
		TemplateOrderReceipt,
		TemplateOrderExtension,
		TemplateOrderExtensionApproval,
		TemplateOrderDelivered,
	}
}
