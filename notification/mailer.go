package notification

import "context"

// DefaultAppIcon is the logo shown in every email
const DefaultAppIcon = "https://i.ibb.co/Kyp2m0t/cover.png"

// EmailLocals are the values a template can render. Each template reads
// only the fields it needs.
type EmailLocals struct {
	AppLink        string `json:"appLink"`
	AppIcon        string `json:"appIcon"`
	Username       string `json:"username,omitempty"`
	VerifyLink     string `json:"verifyLink,omitempty"`
	ResetLink      string `json:"resetLink,omitempty"`
	Sender         string `json:"sender,omitempty"`
	OfferLink      string `json:"offerLink,omitempty"`
	Amount         string `json:"amount,omitempty"`
	BuyerUsername  string `json:"buyerUsername,omitempty"`
	SellerUsername string `json:"sellerUsername,omitempty"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description,omitempty"`
	DeliveryDays   string `json:"deliveryDays,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
	OrderDue       string `json:"orderDue,omitempty"`
	Requirements   string `json:"requirements,omitempty"`
	OrderURL       string `json:"orderUrl,omitempty"`
	OriginalDate   string `json:"originalDate,omitempty"`
	NewDate        string `json:"newDate,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Subject        string `json:"subject,omitempty"`
	Header         string `json:"header,omitempty"`
	Type           string `json:"type,omitempty"`
	Message        string `json:"message,omitempty"`
	ServiceFee     string `json:"serviceFee,omitempty"`
	Total          string `json:"total,omitempty"`
}

// Mailer sends one templated email. It reports failures itself and never
// returns them, so a mail outage cannot stall a queue.
type Mailer interface {
	SendEmail(ctx context.Context, template, receiverEmail string, locals EmailLocals)
}

// MailerFunc is a function adapter for Mailer
type MailerFunc func(ctx context.Context, template, receiverEmail string, locals EmailLocals)

// SendEmail implements Mailer
func (f MailerFunc) SendEmail(ctx context.Context, template, receiverEmail string, locals EmailLocals) {
	f(ctx, template, receiverEmail, locals)
}
