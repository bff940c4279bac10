package vad

// EnergyClassifier is the built-in classifier: a frame counts as speech when
// its mean absolute amplitude exceeds the threshold. Model-backed classifiers
// plug in through the Classifier interface; this one keeps the pipeline
// working with no VAD model on disk.
type EnergyClassifier struct {
	threshold int32
}

const defaultEnergyThreshold = 500

func NewEnergyClassifier(threshold int32) *EnergyClassifier {
	if threshold <= 0 {
		threshold = defaultEnergyThreshold
	}
	return &EnergyClassifier{threshold: threshold}
}

func (c *EnergyClassifier) Classify(samples []int16) Decision {
	if len(samples) == 0 {
		return Decision{}
	}

	var sum int64
	for _, s := range samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	mean := sum / int64(len(samples))

	speech := mean > int64(c.threshold)
	conf := float32(mean) / float32(c.threshold*4)
	if conf > 1 {
		conf = 1
	}
	return Decision{Speech: speech, Confidence: conf}
}

func (c *EnergyClassifier) Reset() {}
