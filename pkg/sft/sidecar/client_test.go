package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sgl-project/sft-agent/pkg/dataset"
	"github.com/sgl-project/sft-agent/pkg/logging"
	"github.com/sgl-project/sft-agent/pkg/sft"
)

var _ = Describe("Client", func() {
	var (
		fake   *fakeSidecar
		client *Client
		ctx    context.Context
		model  *sft.Model
	)

	BeforeEach(func() {
		fake = newFakeSidecar()
		DeferCleanup(fake.server.Close)

		var err error
		client, err = NewClient(Config{
			Endpoint:       fake.server.URL + "/",
			PollInterval:   time.Millisecond,
			StartupTimeout: time.Second,
			Logger:         logging.NewTestLogger(),
		})
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
		model = &sft.Model{ID: "m-1", Name: "unsloth/Qwen2.5-3B-Instruct-bnb-4bit"}
	})

	It("requires an endpoint", func() {
		_, err := NewClient(Config{})
		Expect(err).To(HaveOccurred())
	})

	Describe("LoadModel", func() {
		It("waits for the sidecar and sends the load request", func() {
			got, err := client.LoadModel(ctx, sft.LoadRequest{
				ModelName:    "unsloth/Qwen2.5-3B-Instruct-bnb-4bit",
				MaxSeqLength: 2048,
				LoadIn4Bit:   true,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(&sft.Model{ID: "m-1", Name: "unsloth/Qwen2.5-3B-Instruct-bnb-4bit", MaxSeqLength: 2048}))
			Expect(fake.callLog()).To(Equal([]string{"GET /status", "POST /load"}))
			Expect(fake.body("/load")).To(MatchJSON(`{
				"model_name": "unsloth/Qwen2.5-3B-Instruct-bnb-4bit",
				"max_seq_length": 2048,
				"dtype": null,
				"load_in_4bit": true
			}`))
		})

		It("gives up when the sidecar never comes up", func() {
			l, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			addr := l.Addr().String()
			Expect(l.Close()).To(Succeed())

			down, err := NewClient(Config{
				Endpoint:       "http://" + addr,
				PollInterval:   time.Millisecond,
				StartupTimeout: 20 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = down.LoadModel(ctx, sft.LoadRequest{ModelName: "m"})
			Expect(err).To(MatchError(ContainSubstring("can't reach training sidecar")))
		})
	})

	It("injects adapters for the model", func() {
		info, err := client.InjectAdapters(ctx, model, sft.AdapterSpec{
			R:             16,
			LoraAlpha:     32,
			TargetModules: []string{"q_proj", "v_proj"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(info.TrainableParams).To(BeEquivalentTo(29933568))

		var body map[string]interface{}
		Expect(json.Unmarshal(fake.body("/adapters"), &body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("model_id", "m-1"))
		Expect(body).To(HaveKeyWithValue("r", BeEquivalentTo(16)))
	})

	It("renders chat templates in batches", func() {
		texts, err := client.TemplaterFor(model).ApplyChatTemplate(ctx, [][]dataset.Turn{
			{{Role: "user", Content: "a"}},
			{{Role: "user", Content: "b"}, {Role: "assistant", Content: "c"}},
		}, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(texts).To(Equal([]string{"<user>a", "<user>b<assistant>c"}))
		Expect(fake.body("/chat_template")).To(ContainSubstring(`"add_generation_prompt":false`))
	})

	Describe("Train", func() {
		It("polls until the run finishes", func() {
			fake.statuses = []Response{
				{Status: StatusReady},
				{Status: StatusRunning},
				{Status: StatusFinished, Result: &sft.TrainResult{GlobalStep: 9, TrainingLoss: 0.5, Epoch: 3}},
			}
			res, err := client.Train(ctx, model, sft.TrainRequest{
				DatasetFile:      "/out/dataset/train.jsonl",
				DatasetTextField: "text",
				Args:             sft.TrainingArguments{NumTrainEpochs: 3, SaveStrategy: "epoch"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(&sft.TrainResult{GlobalStep: 9, TrainingLoss: 0.5, Epoch: 3}))
			Expect(fake.callLog()).To(Equal([]string{"POST /finetune", "GET /status", "GET /status", "GET /status"}))

			var body map[string]interface{}
			Expect(json.Unmarshal(fake.body("/finetune"), &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("dataset_file", "/out/dataset/train.jsonl"))
			Expect(body).To(HaveKey("args"))
		})

		It("fails when the sidecar reports a failure", func() {
			fake.statuses = []Response{{Status: StatusFailed, Message: "CUDA out of memory"}}
			_, err := client.Train(ctx, model, sft.TrainRequest{})
			Expect(err).To(MatchError(ContainSubstring("CUDA out of memory")))
		})

		It("marks data rejections", func() {
			fake.finetune = 422
			_, err := client.Train(ctx, model, sft.TrainRequest{})
			Expect(errors.Is(err, ErrDataValidation)).To(BeTrue())

			var se *StatusError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Message).To(Equal("Data error: line 3 has no text"))
		})

		It("stops polling when the context is cancelled", func() {
			fake.statuses = []Response{{Status: StatusRunning}}
			cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err := client.Train(cctx, model, sft.TrainRequest{})
			Expect(err).To(HaveOccurred())
		})
	})

	It("saves, exports, reports metrics and terminates", func() {
		Expect(client.SaveCheckpoint(ctx, model, "/out")).To(Succeed())
		Expect(fake.body("/save")).To(MatchJSON(`{"model_id":"m-1","output_dir":"/out"}`))

		res, err := client.Export(ctx, model, sft.ExportRequest{OutputDir: "/out", QuantizationMethod: "q4_k_m"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Path).To(Equal("/out/unsloth.Q4_K_M.gguf"))
		Expect(fake.body("/export")).To(MatchJSON(`{"model_id":"m-1","output_dir":"/out","quantization_method":"q4_k_m"}`))

		metrics, err := client.TrainingMetrics(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(metrics).To(MatchJSON(`{"train_loss":0.42}`))

		Expect(client.Terminate(ctx)).To(Succeed())
		Expect(fake.callLog()).To(Equal([]string{"POST /save", "POST /export", "GET /metrics", "POST /terminate"}))
	})
})
