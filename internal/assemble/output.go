package assemble

import "github.com/hurttlocker/ofnr/internal/ofnr"

// SchemaVersion identifies the layout of ValidatedOutput.
const SchemaVersion = "1.0"

// Safety labels.
const (
	LabelClean    = "clean"
	LabelRepaired = "repaired"
	LabelFlagged  = "flagged"
)

// Rewrite modes summarize how content was made safe.
const (
	RewriteNone    = "none"
	RewriteInPlace = "rewrite"
	RewriteDrop    = "drop"
	RewriteAndDrop = "rewrite_and_drop"
)

// ValidatedOutput is an OFNR record that conforms to the master schema.
// Values returned by Assemble are never modified afterwards.
type ValidatedOutput struct {
	ID              string            `json:"id" validate:"required"`
	OntologyVersion string            `json:"ontology_version" validate:"required"`
	OFNR            *OFNR             `json:"ofnr" validate:"required"`
	Safety          *Safety           `json:"safety" validate:"required"`
	Quality         *Quality          `json:"quality" validate:"required"`
	Metadata        *Metadata         `json:"metadata" validate:"required"`
	Flags           *Flags            `json:"flags" validate:"required"`
	Diagnostics     []ofnr.Diagnostic `json:"diagnostics" validate:"dive"`
}

// OFNR holds the validated fields and what was detected on the way.
type OFNR struct {
	Observations            []string `json:"observations" validate:"dive,required"`
	Feelings                []string `json:"feelings" validate:"dive,required"`
	Needs                   []string `json:"needs" validate:"dive,required"`
	Requests                []string `json:"requests" validate:"dive,required"`
	ExplicitNeeds           []string `json:"explicit_needs" validate:"dive,required"`
	UnverifiedFeelings      []string `json:"unverified_feelings" validate:"dive,required"`
	EvaluationsDetected     []string `json:"evaluations_detected"`
	PseudoFeelingsDetected  []string `json:"pseudo_feelings_detected"`
	StrategyLeakageDetected []string `json:"strategy_leakage_detected"`
}

// Safety tallies what the pipeline had to do to the record.
type Safety struct {
	Label   string                         `json:"label" validate:"required,oneof=clean repaired flagged" jsonschema:"enum=clean,enum=repaired,enum=flagged"`
	Reason  string                         `json:"reason"`
	Counts  map[ofnr.Action]int            `json:"counts" validate:"required"`
	ByStage map[string]map[ofnr.Action]int `json:"by_stage" validate:"required"`

	// RewriteMode is none, rewrite (spans rewritten or reclassified in
	// place), drop (rejected spans removed) or rewrite_and_drop.
	RewriteMode string `json:"rewrite_mode" validate:"required,oneof=none rewrite drop rewrite_and_drop" jsonschema:"enum=none,enum=rewrite,enum=drop,enum=rewrite_and_drop"`
	// SafeAlternative lists the invitations that replaced coercive requests.
	SafeAlternative []string `json:"safe_alternative"`
}

// Quality holds per-field confidences and record-level metrics. All scores
// are within 0..1.
type Quality struct {
	Observations float64 `json:"observations" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	Feelings     float64 `json:"feelings" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	Needs        float64 `json:"needs" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	Requests     float64 `json:"requests" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`

	OFNRCompliance                  float64 `json:"ofnr_compliance" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	ObservationIsNonjudgmental      bool    `json:"observation_is_nonjudgmental"`
	PseudoFeelingTranslationQuality float64 `json:"pseudo_feeling_translation_quality" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	NeedsListMatch                  bool    `json:"needs_list_match"`
	StrategyLeakageScore            float64 `json:"strategy_leakage_score" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	RequestIsActionable             bool    `json:"request_is_actionable"`
	RequestIsNoncoercive            bool    `json:"request_is_noncoercive"`
	OverallConfidence               float64 `json:"overall_confidence" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`

	RequestScores []RequestScore `json:"request_scores" validate:"dive"`
}

// RequestScore is the quality record of one emitted request.
type RequestScore struct {
	Text          string   `json:"text" validate:"required"`
	Original      string   `json:"original"`
	Actionability float64  `json:"actionability" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	Specificity   float64  `json:"specificity" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	Positivity    float64  `json:"positivity" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	Composite     float64  `json:"composite" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	AntiPatterns  []string `json:"anti_patterns"`
	Flags         []string `json:"flags" validate:"dive,oneof=needs_revision low_quality"`
}

// Metadata carries grounding evidence and provenance.
type Metadata struct {
	SomaticMarkers []string    `json:"somatic_markers"`
	Language       string      `json:"language" validate:"required"`
	SchemaVersion  string      `json:"schema_version" validate:"required"`
	State          ofnr.State  `json:"state" validate:"required,eq=Assembled"`
	Source         ofnr.Source `json:"source"`
}

// Flags mirrors the error flags and warnings of the dataset format.
type Flags struct {
	ErrorFlags []string `json:"error_flags"`
	Warnings   []string `json:"warnings"`
}
