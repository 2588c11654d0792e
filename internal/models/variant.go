package models

// Variant names one of the trained networks.
type Variant string

const (
	// VariantT1 uses the T1 image only.
	VariantT1 Variant = "vent_t1"
	// VariantT1FLAIR uses T1 and FLAIR.
	VariantT1FLAIR Variant = "vent_t1fl"
	// VariantAll uses T1, FLAIR and T2.
	VariantAll Variant = "vent"
)

// ModelFile and WeightsFile are the artifact names of a variant.
func (v Variant) ModelFile() string   { return string(v) + "_model.json" }
func (v Variant) WeightsFile() string { return string(v) + "_model_weights.h5" }

// Modalities returns the input channels of the variant in order.
func (v Variant) Modalities() []Modality {
	switch v {
	case VariantT1FLAIR:
		return []Modality{T1, FLAIR}
	case VariantAll:
		return []Modality{T1, FLAIR, T2}
	default:
		return []Modality{T1}
	}
}

// SelectVariant picks the network from the available modalities. There is
// no T1+T2 network, so T2 is only used together with FLAIR.
func SelectVariant(available []Modality) Variant {
	var flair, t2 bool
	for _, m := range available {
		switch m {
		case FLAIR:
			flair = true
		case T2:
			t2 = true
		}
	}
	switch {
	case flair && t2:
		return VariantAll
	case flair:
		return VariantT1FLAIR
	default:
		return VariantT1
	}
}
