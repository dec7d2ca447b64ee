// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/internal/model"
	"kb-pilot-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

var ESClient *elasticsearch.Client

// IndexName 返回某个模态对应的索引名。
// 各模态的向量维度不同，必须各占一个索引，空间之间互不可比。
func IndexName(prefix string, modality model.Modality) string {
	return fmt.Sprintf("%s_%s", prefix, modality)
}

// InitES 初始化 Elasticsearch 客户端，并为每个模态创建各自维度的索引。
func InitES(esCfg config.ElasticsearchConfig, dims map[model.Modality]int) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client

	for modality, dim := range dims {
		if err := createIndexIfNotExists(IndexName(esCfg.IndexPrefix, modality), dim); err != nil {
			return err
		}
	}
	return nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则按给定向量维度创建它
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// dense_vector 按该模态的模型维度建立，cosine 相似度；
	// doc_version/deleted 支撑逻辑墓碑与版本化删除，seq 用于同分排序
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"doc_version": { "type": "integer" },
				"position": { "type": "integer" },
				"modality": { "type": "keyword" },
				"text_content": {
					"type": "text",
					"analyzer": "ik_max_word",
					"search_analyzer": "ik_smart"
				},
				"metadata": { "type": "object", "enabled": true },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"deleted": { "type": "boolean" },
				"seq": { "type": "long" },
				"ingested_at": { "type": "date" }
			}
		}
	}`, dims)

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)

	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功 (dims=%d)", indexName, dims)
	return nil
}
