package ocr

// isPlausiblePrice rejects zero and anything a four digit dollar figure
// cannot express.
func isPlausiblePrice(v float64) bool {
	return v > 0 && v < 10000
}

// isPlausibleGasPrice accepts pump prices in cents per litre.
func isPlausibleGasPrice(v float64) bool {
	return v >= 20 && v < 400
}
