package gcs

var NormalizePrefix = normalizePrefix
var Classify = classify
