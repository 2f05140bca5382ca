package models

import "gorm.io/datatypes"

// PaymentStatus represents the admin review state of a receipt.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "Pending"
	PaymentApproved      PaymentStatus = "Approved"
	PaymentDeclined      PaymentStatus = "Declined"
	PaymentRefundPending PaymentStatus = "Refund Pending"
	PaymentRefunded      PaymentStatus = "Refunded"
)

// PaymentMethod is the channel the patient claims to have paid through.
type PaymentMethod string

// PaymentMethods lists the recognized payment channels in display order.
var PaymentMethods = []PaymentMethod{
	"easypaisa",
	"jazzcash",
	"bank_transfer",
	"credit_card",
	"paypal",
	"stripe",
	"razorpay",
	"paytm",
	"phonepe",
	"gpay",
	"apple_pay",
	"other",
}

// Valid reports whether m is one of PaymentMethods.
func (m PaymentMethod) Valid() bool {
	for _, known := range PaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

// BookingInfo is the slot the patient asked for when uploading the receipt.
type BookingInfo struct {
	Date              string `gorm:"size:20" json:"date"`
	Time              string `gorm:"size:20" json:"time"`
	TherapistUsername string `gorm:"size:100;index" json:"therapistUsername"`
}

// VoiceRecording is an optional base64 audio clip analyzed after approval.
type VoiceRecording struct {
	AudioData     string         `gorm:"type:longtext" json:"-"`
	FileName      string         `gorm:"size:255" json:"fileName,omitempty"`
	Processed     bool           `gorm:"default:false" json:"processed"`
	EmotionResult string         `gorm:"size:50" json:"emotionResult,omitempty"`
	ReportSent    bool           `gorm:"default:false" json:"reportSent"`
	Analysis      datatypes.JSON `json:"analysis,omitempty"`
}

// HasAudio reports whether a clip and its file name are attached.
// It does not look at Processed.
func (v VoiceRecording) HasAudio() bool {
	return v.AudioData != "" && v.FileName != ""
}

// Payment is a manually uploaded receipt awaiting or holding an admin decision.
type Payment struct {
	BaseModel
	AppointmentID   *string        `gorm:"size:36;index" json:"appointmentId,omitempty"`
	PatientUsername string         `gorm:"size:100;index;not null" json:"patientUsername"`
	Method          PaymentMethod  `gorm:"size:30;not null" json:"method"`
	ReferenceNo     string         `gorm:"size:100;not null" json:"referenceNo"`
	Amount          float64        `gorm:"default:2500" json:"amount"`
	ReceiptURL      string         `gorm:"size:500;not null" json:"receiptUrl"`
	SessionType     string         `gorm:"size:50" json:"sessionType,omitempty"`
	BookingInfo     BookingInfo    `gorm:"embedded;embeddedPrefix:booking_" json:"bookingInfo"`
	VoiceRecording  VoiceRecording `gorm:"embedded;embeddedPrefix:voice_" json:"voiceRecording"`
	Status          PaymentStatus  `gorm:"size:20;index;default:'Pending'" json:"status"`
}

// PaymentView is a payment annotated for the admin screens.
type PaymentView struct {
	Payment
	PatientFullName   string `json:"patientFullName"`
	TherapistFullName string `json:"therapistFullName"`
	BookingStatus     string `json:"bookingStatus"`
}
