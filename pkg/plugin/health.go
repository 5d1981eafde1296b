package plugin

// HealthStatus summarizes the contents of all four registries.
type HealthStatus struct {
	Healthy            bool     `json:"healthy"`
	OcrBackends        []string `json:"ocr_backends"`
	Extractors         []string `json:"extractors"`
	PostProcessors     []string `json:"post_processors"`
	Validators         []string `json:"validators"`
	OcrBackendCount    int      `json:"ocr_backend_count"`
	ExtractorCount     int      `json:"extractor_count"`
	PostProcessorCount int      `json:"post_processor_count"`
	ValidatorCount     int      `json:"validator_count"`
	Warnings           []string `json:"warnings,omitempty"`
	PoisonedRegistries []string `json:"poisoned_registries,omitempty"`
}

// Health reads every registry and reports counts and names. It never mutates
// state and never fails. Empty OCR or extractor registries are reported as
// warnings; a poisoned registry is listed but still read.
func (r *Registries) Health() HealthStatus {
	st := HealthStatus{
		OcrBackends:    r.OCR.List(),
		Extractors:     r.Extractors.List(),
		PostProcessors: r.Processors.List(),
		Validators:     r.Validators.List(),
	}
	st.OcrBackendCount = len(st.OcrBackends)
	st.ExtractorCount = len(st.Extractors)
	st.PostProcessorCount = len(st.PostProcessors)
	st.ValidatorCount = len(st.Validators)

	if st.OcrBackendCount == 0 {
		st.Warnings = append(st.Warnings, "no OCR backends registered, OCR will be unavailable")
	}
	if st.ExtractorCount == 0 {
		st.Warnings = append(st.Warnings, "no document extractors registered")
	}
	poisoned := []bool{r.Extractors.Poisoned(), r.OCR.Poisoned(), r.Processors.Poisoned(), r.Validators.Poisoned()}
	for i, capability := range Capabilities {
		if poisoned[i] {
			st.PoisonedRegistries = append(st.PoisonedRegistries, string(capability))
		}
	}
	st.Healthy = st.ExtractorCount > 0 && len(st.PoisonedRegistries) == 0
	return st
}
