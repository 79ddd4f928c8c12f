package quote

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusIdle            Status = "idle"
	StatusPendingDispatch Status = "pending_dispatch"
	StatusPendingReimport Status = "pending_reimport"
	StatusClaimed         Status = "claimed"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Pending reports whether the status makes the quote eligible for a claim.
func (s Status) Pending() bool {
	return s == StatusPendingDispatch || s == StatusPendingReimport
}

// Kind selects which descriptor shape the codec produces for a job.
type Kind string

const (
	KindCreate      Kind = "create"
	KindReintegrate Kind = "reintegrate"
	KindRevise      Kind = "revise"
	KindDuplicate   Kind = "duplicate"
	KindPrintLabel  Kind = "print_label"
)

// NeedsSource reports whether the bridge must materialize a source workbook
// locally before handing the descriptor to the tool.
func (k Kind) NeedsSource() bool {
	return k == KindReintegrate || k == KindPrintLabel
}

// ExpectsPdf reports whether the tool is expected to produce a rendered PDF
// companion next to the workbook.
func (k Kind) ExpectsPdf() bool {
	return k == KindPrintLabel
}

// FailReason distinguishes the terminal failure causes so an operator can
// tell "tool never responded" from "tool responded with garbage".
type FailReason string

const (
	FailTimeout  FailReason = "timeout"
	FailParse    FailReason = "parse"
	FailUpload   FailReason = "upload"
	FailDownload FailReason = "download"
)

// Params carries the business values needed to build a descriptor. The
// dispatcher passes them through to the codec without interpreting them.
type Params struct {
	Currency string `json:"currency,omitempty"`
	Language string `json:"language,omitempty"`

	ClientName       string `json:"client_name,omitempty"`
	ClientCity       string `json:"client_city,omitempty"`
	ClientRegion     string `json:"client_region,omitempty"`
	ClientAddress    string `json:"client_address,omitempty"`
	ClientPostalCode string `json:"client_postal_code,omitempty"`
	ClientCountry    string `json:"client_country,omitempty"`

	ContactFirstName string `json:"contact_first_name,omitempty"`
	ContactLastName  string `json:"contact_last_name,omitempty"`
	ContactPhone     string `json:"contact_phone,omitempty"`
	ContactMobile    string `json:"contact_mobile,omitempty"`
	ContactEmail     string `json:"contact_email,omitempty"`

	RepFirstName string `json:"rep_first_name,omitempty"`
	RepLastName  string `json:"rep_last_name,omitempty"`
	RepPhone     string `json:"rep_phone,omitempty"`
	RepMobile    string `json:"rep_mobile,omitempty"`
	RepEmail     string `json:"rep_email,omitempty"`

	ProjectName     string  `json:"project_name,omitempty"`
	MaterialName    string  `json:"material_name,omitempty"`
	MaterialQuality string  `json:"material_quality,omitempty"`
	MaterialDensity float64 `json:"material_density,omitempty"`
	MaterialPrice   float64 `json:"material_price,omitempty"`
	MaterialUnit    string  `json:"material_unit,omitempty"`
	NumberOfLines   int     `json:"number_of_lines,omitempty"`

	ExchangeRate     float64 `json:"exchange_rate,omitempty"`
	SemiStandardRate float64 `json:"semi_standard_rate,omitempty"`
	PalletPrice      float64 `json:"pallet_price,omitempty"`
	PalletRequired   bool    `json:"pallet_required,omitempty"`
	ValidityDays     int     `json:"validity_days,omitempty"`
	EstimatedWeeks   int     `json:"estimated_weeks,omitempty"`
	MeasurementSys   string  `json:"measurement_system,omitempty"`

	IncotermName       string `json:"incoterm_name,omitempty"`
	IncotermCode       string `json:"incoterm_code,omitempty"`
	IncotermCustomText string `json:"incoterm_custom_text,omitempty"`

	PaymentTermCode   int     `json:"payment_term_code,omitempty"`
	PaymentDays       int     `json:"payment_days,omitempty"`
	DepositPercent    float64 `json:"deposit_percent,omitempty"`
	DiscountPercent   float64 `json:"discount_percent,omitempty"`
	DiscountDays      int     `json:"discount_days,omitempty"`
	PaymentCustomText string  `json:"payment_custom_text,omitempty"`
	PaymentLabelFR    string  `json:"payment_label_fr,omitempty"`
	PaymentLabelEN    string  `json:"payment_label_en,omitempty"`

	// Revision / duplication inputs.
	OldName           string `json:"old_name,omitempty"`
	NewName           string `json:"new_name,omitempty"`
	OldColour         string `json:"old_colour,omitempty"`
	NewColour         string `json:"new_colour,omitempty"`
	OldQuality        string `json:"old_quality,omitempty"`
	NewQuality        string `json:"new_quality,omitempty"`
	OriginalReference string `json:"original_reference,omitempty"`

	Lines []LineInput `json:"lines,omitempty"`
}

// LineInput is an outbound line as known before the tool prices it.
type LineInput struct {
	Tag               string  `json:"tag,omitempty"`
	Description       string  `json:"description,omitempty"`
	Material          string  `json:"material,omitempty"`
	Unit              string  `json:"unit,omitempty"`
	Quantity          float64 `json:"quantity,omitempty"`
	Length            float64 `json:"length,omitempty"`
	Width             float64 `json:"width,omitempty"`
	Thickness         float64 `json:"thickness,omitempty"`
	TotalWeight       float64 `json:"total_weight,omitempty"`
	UnitPrice         float64 `json:"unit_price,omitempty"`
	UnitPriceInternal float64 `json:"unit_price_internal,omitempty"`
}

// Line is one decoded row of a tool reply: a priced, dimensioned unit of
// work. External prices are in the quote currency, internal ones in the
// company's accounting currency.
type Line struct {
	Tag         string `json:"tag"`
	No          string `json:"no,omitempty"`
	Ref         string `json:"ref,omitempty"`
	Product     string `json:"product,omitempty"`
	Description string `json:"description,omitempty"`
	Material    string `json:"material,omitempty"`
	Unit        string `json:"unit,omitempty"`

	Quantity  float64 `json:"quantity"`
	Length    float64 `json:"length"`
	Width     float64 `json:"width"`
	Thickness float64 `json:"thickness"`

	NetLength   float64 `json:"net_length"`
	NetArea     float64 `json:"net_area"`
	NetVolume   float64 `json:"net_volume"`
	TotalWeight float64 `json:"total_weight"`

	UnitPrice          float64 `json:"unit_price"`
	TotalPrice         float64 `json:"total_price"`
	UnitPriceInternal  float64 `json:"unit_price_internal"`
	TotalPriceInternal float64 `json:"total_price_internal"`

	StoneValue          float64 `json:"stone_value"`
	PrimarySawingCost   float64 `json:"primary_sawing_cost"`
	SecondarySawingCost float64 `json:"secondary_sawing_cost"`
	ProfilingCost       float64 `json:"profiling_cost"`
	FinishingCost       float64 `json:"finishing_cost"`
	AnchoringCost       float64 `json:"anchoring_cost"`

	UnitTime  float64 `json:"unit_time,omitempty"`
	TotalTime float64 `json:"total_time,omitempty"`
}

// Quote is the unit of exchange between the back office and the tool.
type Quote struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`

	Status     Status     `json:"status"`
	Kind       Kind       `json:"kind"`
	FailReason FailReason `json:"fail_reason,omitempty"`

	Params Params `json:"params"`
	Lines  []Line `json:"lines,omitempty"`

	TotalAmount float64 `json:"total_amount"`

	// Tool-native locations. TargetPath is where the tool writes or reads
	// the workbook; SourcePath is the template/original for copy kinds.
	TargetPath string `json:"target_path,omitempty"`
	SourcePath string `json:"source_path,omitempty"`

	// ArtifactPaths are artifact-store relative paths of uploaded files
	// (source workbook, reply, rendered pdf).
	ArtifactPaths []string `json:"artifact_paths,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	HandoffAt   *time.Time `json:"handoff_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func New(reference string, kind Kind, params Params) *Quote {
	now := time.Now().UTC()
	return &Quote{
		ID:        uuid.NewString(),
		Reference: reference,
		Status:    StatusIdle,
		Kind:      kind,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
