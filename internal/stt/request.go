package stt

import (
	"net/http"
	"strings"
	"time"
)

const (
	DefaultSubmitURL  = "https://stt.api.cloud.yandex.net/stt/v3/recognizeFileAsync"
	DefaultPollURL    = "https://stt.api.cloud.yandex.net/stt/v3/getRecognition"
	DefaultStorageURL = "https://storage.yandexcloud.net"

	DefaultModel        = "general:rc"
	DefaultLanguage     = "ru-RU"
	DefaultMaxAttempts  = 50
	DefaultPollInterval = 2 * time.Second
)

// Options configures the submitter and the poller.
type Options struct {
	SubmitURL    string
	PollURL      string
	StorageURL   string
	Credential   string
	Model        string
	Language     string
	MaxAttempts  int
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// DefaultOptions returns the production endpoints and retry policy.
func DefaultOptions(credential string) Options {
	return Options{
		SubmitURL:    DefaultSubmitURL,
		PollURL:      DefaultPollURL,
		StorageURL:   DefaultStorageURL,
		Credential:   credential,
		Model:        DefaultModel,
		Language:     DefaultLanguage,
		MaxAttempts:  DefaultMaxAttempts,
		PollInterval: DefaultPollInterval,
	}
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// RecognitionRequest is the body of an async recognition job.
type RecognitionRequest struct {
	URI              string           `json:"uri"`
	RecognitionModel RecognitionModel `json:"recognitionModel"`
}

type RecognitionModel struct {
	Model               string              `json:"model"`
	AudioFormat         AudioFormat         `json:"audioFormat"`
	TextNormalization   TextNormalization   `json:"textNormalization"`
	LanguageRestriction LanguageRestriction `json:"languageRestriction"`
	AudioProcessingType string              `json:"audioProcessingType"`
}

type AudioFormat struct {
	ContainerAudio ContainerAudio `json:"containerAudio"`
}

type ContainerAudio struct {
	ContainerAudioType string `json:"containerAudioType"`
}

type TextNormalization struct {
	TextNormalization   string `json:"textNormalization"`
	ProfanityFilter     bool   `json:"profanityFilter"`
	LiteratureText      bool   `json:"literatureText"`
	PhoneFormattingMode string `json:"phoneFormattingMode"`
}

type LanguageRestriction struct {
	LanguageCode []string `json:"languageCode"`
}

// NewRecognitionRequest builds the job body for an OGG/Opus object: text
// normalization on, profanity filter off, literature text, no phone
// formatting, full-data processing. Empty model or language fall back to
// the defaults.
func NewRecognitionRequest(objectURI, model, language string) RecognitionRequest {
	if model == "" {
		model = DefaultModel
	}
	if language == "" {
		language = DefaultLanguage
	}
	return RecognitionRequest{
		URI: objectURI,
		RecognitionModel: RecognitionModel{
			Model: model,
			AudioFormat: AudioFormat{
				ContainerAudio: ContainerAudio{ContainerAudioType: "OGG_OPUS"},
			},
			TextNormalization: TextNormalization{
				TextNormalization:   "TEXT_NORMALIZATION_ENABLED",
				ProfanityFilter:     false,
				LiteratureText:      true,
				PhoneFormattingMode: "PHONE_FORMATTING_MODE_DISABLED",
			},
			LanguageRestriction: LanguageRestriction{
				LanguageCode: []string{language},
			},
			AudioProcessingType: "FULL_DATA",
		},
	}
}

// ObjectURI joins the storage base URL, bucket and key.
func ObjectURI(storageURL, bucket, key string) string {
	if storageURL == "" {
		storageURL = DefaultStorageURL
	}
	return strings.TrimRight(storageURL, "/") + "/" + bucket + "/" + strings.TrimLeft(key, "/")
}
