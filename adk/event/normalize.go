// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event

// legacyFinishReasonCodes maps the small-integer encodings some providers
// use (protobuf-style enums) onto the canonical string set. Unknown codes
// fall back to FinishOther rather than erroring.
var legacyFinishReasonCodes = map[int]FinishReason{
	0: FinishUnspecified,
	1: FinishStop,
	2: FinishMaxTokens,
	3: FinishSafety,
	4: FinishRecitation,
	5: FinishOther,
	6: FinishBlocklist,
	7: FinishProhibitedContent,
	8: FinishSpii,
	9: FinishMalformedFunctionCall,
}

var knownFinishReasons = map[FinishReason]bool{
	FinishUnspecified: true, FinishStop: true, FinishMaxTokens: true,
	FinishSafety: true, FinishRecitation: true, FinishOther: true,
	FinishBlocklist: true, FinishProhibitedContent: true, FinishSpii: true,
	FinishMalformedFunctionCall: true,
}

// NormalizeFinishReason accepts either the canonical string form or a
// provider's numeric enum encoding and always returns a value from the
// canonical set, defaulting to FinishOther for anything it doesn't
// recognize, so new provider values never break ingestion.
func NormalizeFinishReason(v any) FinishReason {
	switch t := v.(type) {
	case FinishReason:
		if knownFinishReasons[t] {
			return t
		}
		return FinishOther
	case string:
		fr := FinishReason(t)
		if knownFinishReasons[fr] {
			return fr
		}
		return FinishOther
	case int:
		if fr, ok := legacyFinishReasonCodes[t]; ok {
			return fr
		}
		return FinishOther
	case float64:
		return NormalizeFinishReason(int(t))
	case nil:
		return FinishUnspecified
	default:
		return FinishOther
	}
}

// HarmCategory and HarmProbability round out the canonical enums that need
// ingress normalization: harm_category, harm_probability, block_reason,
// alongside finish_reason.
type HarmCategory string

const (
	HarmCategoryUnspecified HarmCategory = "unspecified"
	HarmCategoryHarassment  HarmCategory = "harassment"
	HarmCategoryHateSpeech  HarmCategory = "hate_speech"
	HarmCategorySexual      HarmCategory = "sexual"
	HarmCategoryDangerous   HarmCategory = "dangerous"
	HarmCategoryOther       HarmCategory = "other"
)

type HarmProbability string

const (
	HarmProbabilityUnspecified HarmProbability = "unspecified"
	HarmProbabilityNegligible  HarmProbability = "negligible"
	HarmProbabilityLow         HarmProbability = "low"
	HarmProbabilityMedium      HarmProbability = "medium"
	HarmProbabilityHigh        HarmProbability = "high"
)

// BlockReason explains why a provider blocked a turn outright.
type BlockReason string

const (
	BlockReasonUnspecified   BlockReason = "unspecified"
	BlockReasonSafety        BlockReason = "safety"
	BlockReasonOther         BlockReason = "other"
	BlockReasonBlocklist     BlockReason = "blocklist"
	BlockReasonProhibited    BlockReason = "prohibited_content"
)

var knownHarmCategories = map[HarmCategory]bool{
	HarmCategoryUnspecified: true, HarmCategoryHarassment: true, HarmCategoryHateSpeech: true,
	HarmCategorySexual: true, HarmCategoryDangerous: true, HarmCategoryOther: true,
}

var harmCategoryCodes = map[int]HarmCategory{
	0: HarmCategoryUnspecified, 1: HarmCategoryHarassment, 2: HarmCategoryHateSpeech,
	3: HarmCategorySexual, 4: HarmCategoryDangerous, 5: HarmCategoryOther,
}

// NormalizeHarmCategory mirrors NormalizeFinishReason's string/int tolerance.
func NormalizeHarmCategory(v any) HarmCategory {
	switch t := v.(type) {
	case string:
		hc := HarmCategory(t)
		if knownHarmCategories[hc] {
			return hc
		}
		return HarmCategoryOther
	case int:
		if hc, ok := harmCategoryCodes[t]; ok {
			return hc
		}
		return HarmCategoryOther
	case float64:
		return NormalizeHarmCategory(int(t))
	default:
		return HarmCategoryOther
	}
}

// String implements fmt.Stringer for readable log lines.
func (f FinishReason) String() string { return string(f) }
