package search

import (
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"tender-factory/config"
)

// NewClient erstellt den Elasticsearch-Client für den Tender-Index.
func NewClient(cfg *config.Config) (*elasticsearch.Client, error) {
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(cfg.ElasticURL, ","),
		Username:  cfg.ElasticUser,
		Password:  cfg.ElasticPassword,
	})
}
