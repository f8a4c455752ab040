// Package processor turns step content into deliverable message bodies:
// template rendering against trigger data, and markdown conversion for each
// transport.
package processor

// Processor transforms message content.
type Processor interface {
	Process(content string, data map[string]interface{}) (string, error)
}

// Func adapts a function to the Processor interface.
type Func func(content string, data map[string]interface{}) (string, error)

// Process calls f.
func (f Func) Process(content string, data map[string]interface{}) (string, error) {
	return f(content, data)
}

// Chain applies processors in order, feeding each the output of the last.
type Chain []Processor

// Process runs content through every processor in the chain.
func (c Chain) Process(content string, data map[string]interface{}) (string, error) {
	var err error
	for _, p := range c {
		content, err = p.Process(content, data)
		if err != nil {
			return "", err
		}
	}
	return content, nil
}
