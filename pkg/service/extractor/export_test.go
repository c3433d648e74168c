package extractor

var Classify = classify
