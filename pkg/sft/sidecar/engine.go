package sidecar

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sgl-project/sft-agent/pkg/dataset"
	"github.com/sgl-project/sft-agent/pkg/sft"
)

type adaptersRequest struct {
	ModelID string `json:"model_id"`
	sft.AdapterSpec
}

type chatTemplateRequest struct {
	ModelID             string           `json:"model_id"`
	Conversations       [][]dataset.Turn `json:"conversations"`
	AddGenerationPrompt bool             `json:"add_generation_prompt"`
}

type chatTemplateResponse struct {
	Texts []string `json:"texts"`
}

type finetuneRequest struct {
	ModelID string `json:"model_id"`
	sft.TrainRequest
}

type saveRequest struct {
	ModelID   string `json:"model_id"`
	OutputDir string `json:"output_dir"`
}

type exportRequest struct {
	ModelID string `json:"model_id"`
	sft.ExportRequest
}

func (c *Client) LoadModel(ctx context.Context, req sft.LoadRequest) (*sft.Model, error) {
	if err := c.WaitForStartup(ctx); err != nil {
		return nil, err
	}
	c.logger.Infof("Loading model %s on sidecar %s", req.ModelName, c.baseURL)

	var model sft.Model
	if _, err := c.do(ctx, http.MethodPost, "/load", req, &model); err != nil {
		return nil, err
	}
	if model.ID == "" {
		return nil, fmt.Errorf("/load returned no model_id")
	}
	if model.Name == "" {
		model.Name = req.ModelName
	}
	if model.MaxSeqLength == 0 {
		model.MaxSeqLength = req.MaxSeqLength
	}
	return &model, nil
}

func (c *Client) InjectAdapters(ctx context.Context, model *sft.Model, spec sft.AdapterSpec) (*sft.AdapterInfo, error) {
	var info sft.AdapterInfo
	if _, err := c.do(ctx, http.MethodPost, "/adapters", adaptersRequest{ModelID: model.ID, AdapterSpec: spec}, &info); err != nil {
		return nil, err
	}
	c.logger.Infof("Adapters attached: %d trainable of %d parameters", info.TrainableParams, info.TotalParams)
	return &info, nil
}

// TemplaterFor renders with the tokenizer loaded alongside model.
func (c *Client) TemplaterFor(model *sft.Model) dataset.Templater {
	return &templater{client: c, modelID: model.ID}
}

type templater struct {
	client  *Client
	modelID string
}

func (t *templater) ApplyChatTemplate(ctx context.Context, conversations [][]dataset.Turn, addGenerationPrompt bool) ([]string, error) {
	var resp chatTemplateResponse
	req := chatTemplateRequest{ModelID: t.modelID, Conversations: conversations, AddGenerationPrompt: addGenerationPrompt}
	if _, err := t.client.do(ctx, http.MethodPost, "/chat_template", req, &resp); err != nil {
		return nil, err
	}
	return resp.Texts, nil
}

// Train kicks off /finetune and polls /status until the run finishes.
func (c *Client) Train(ctx context.Context, model *sft.Model, req sft.TrainRequest) (*sft.TrainResult, error) {
	c.logger.Infof("Kicking off training on endpoint: %s", c.baseURL)
	if _, err := c.do(ctx, http.MethodPost, "/finetune", finetuneRequest{ModelID: model.ID, TrainRequest: req}, nil); err != nil {
		return nil, err
	}

	for {
		status, err := c.status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to call /status: %w", err)
		}
		switch status.Status {
		case StatusFinished:
			c.logger.Info("Status: Finished")
			if status.Result == nil {
				return &sft.TrainResult{}, nil
			}
			return status.Result, nil
		case StatusRunning, StatusReady:
			c.logger.Infof("Status: %s. Checking again in %s...", status.Status, c.pollInterval)
		default:
			c.logger.Errorf("Status: %s; Message: %s", status.Status, status.Message)
			return nil, fmt.Errorf("error from training, stop here: %s: %s", status.Status, status.Message)
		}
		if err := sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (c *Client) SaveCheckpoint(ctx context.Context, model *sft.Model, dir string) error {
	_, err := c.do(ctx, http.MethodPost, "/save", saveRequest{ModelID: model.ID, OutputDir: dir}, nil)
	return err
}

func (c *Client) Export(ctx context.Context, model *sft.Model, req sft.ExportRequest) (*sft.ExportResult, error) {
	var res sft.ExportResult
	if _, err := c.do(ctx, http.MethodPost, "/export", exportRequest{ModelID: model.ID, ExportRequest: req}, &res); err != nil {
		return nil, err
	}
	if res.Path == "" {
		return nil, fmt.Errorf("/export returned no path")
	}
	return &res, nil
}

// TrainingMetrics returns the raw GET /metrics document.
func (c *Client) TrainingMetrics(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/metrics", nil, nil)
}

func (c *Client) Terminate(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/terminate", nil, nil)
	return err
}
