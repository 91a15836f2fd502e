package contracts

// AuthEmailMessage is published by the auth service to request a verify or
// password email. It has no "type" field.
type AuthEmailMessage struct {
	ReceiverEmail string `json:"receiverEmail"`
	Username      Text   `json:"username,omitempty"`
	VerifyLink    string `json:"verifyLink,omitempty"`
	ResetLink     string `json:"resetLink,omitempty"`
	Template      string `json:"template"`
}

// Validate implements Validator
func (m *AuthEmailMessage) Validate() error {
	if m.ReceiverEmail == "" {
		return required("auth-email", "receiverEmail")
	}
	if m.Template == "" {
		return required("auth-email", "template")
	}
	return nil
}

// OrderEmailMessage is published by the order service. Each template reads
// its own subset of the fields; only the recipient and template are required.
type OrderEmailMessage struct {
	ReceiverEmail  string `json:"receiverEmail"`
	Template       string `json:"template"`
	Username       Text   `json:"username,omitempty"`
	Sender         Text   `json:"sender,omitempty"`
	OfferLink      Text   `json:"offerLink,omitempty"`
	Amount         Text   `json:"amount,omitempty"`
	BuyerUsername  Text   `json:"buyerUsername,omitempty"`
	SellerUsername Text   `json:"sellerUsername,omitempty"`
	Title          Text   `json:"title,omitempty"`
	Description    Text   `json:"description,omitempty"`
	DeliveryDays   Text   `json:"deliveryDays,omitempty"`
	OrderID        Text   `json:"orderId,omitempty"`
	OrderDue       Text   `json:"orderDue,omitempty"`
	Requirements   Text   `json:"requirements,omitempty"`
	OrderURL       Text   `json:"orderUrl,omitempty"`
	OriginalDate   Text   `json:"originalDate,omitempty"`
	NewDate        Text   `json:"newDate,omitempty"`
	Reason         Text   `json:"reason,omitempty"`
	Subject        Text   `json:"subject,omitempty"`
	Header         Text   `json:"header,omitempty"`
	Type           Text   `json:"type,omitempty"`
	Message        Text   `json:"message,omitempty"`
	ServiceFee     Text   `json:"serviceFee,omitempty"`
	Total          Text   `json:"total,omitempty"`
}

// Validate implements Validator
func (m *OrderEmailMessage) Validate() error {
	if m.ReceiverEmail == "" {
		return required("order-email", "receiverEmail")
	}
	if m.Template == "" {
		return required("order-email", "template")
	}
	return nil
}
