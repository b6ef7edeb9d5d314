package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/semlog/pkg/config"
)

var _ = Describe("InitViper", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "viper-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("returns viper with defaults when no config file exists", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		defaults := config.NewDefaultConfig()
		Expect(v.GetString("api.listen")).To(Equal(defaults.API.Listen))
		Expect(v.GetUint("writer.batch_size")).To(Equal(defaults.Writer.BatchSize))
		Expect(v.GetBool("sinks.file.enabled")).To(BeTrue())
		Expect(v.GetFloat64("detection.reach_distance")).To(Equal(defaults.Detection.ReachDistance))
	})

	It("reads config file values over defaults", func() {
		data := `[writer]
batch_size = 7
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		Expect(v.GetUint("writer.batch_size")).To(Equal(uint(7)))
		Expect(v.GetUint("writer.max_retries")).To(Equal(uint(5)))
	})

	It("respects environment variables with SEMLOG_ prefix", func() {
		GinkgoT().Setenv("SEMLOG_EPISODE_TASK_ID", "env-task")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		Expect(v.GetString("episode.task_id")).To(Equal("env-task"))
	})

	It("env vars take precedence over config file values", func() {
		data := `[api]
listen = ":5555"
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())
		GinkgoT().Setenv("SEMLOG_API_LISTEN", ":6666")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		Expect(v.GetString("api.listen")).To(Equal(":6666"))
	})
})

var _ = Describe("FromViper", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "fromviper-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("returns the defaults without overrides", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.NewDefaultConfig()))
	})

	It("layers file, env and explicit values", func() {
		data := `[detection]
classes = ["grasp", "support"]

[episode]
manipulators = ["left_hand", "right_hand"]

[sinks.file]
enabled = false

[sinks.sqlite]
enabled = true
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())
		GinkgoT().Setenv("SEMLOG_WRITER_BATCH_SIZE", "12")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		v.Set("episode.task_id", "wipe")

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Detection.Classes).To(Equal([]string{"grasp", "support"}))
		Expect(cfg.Episode.Manipulators).To(Equal([]string{"left_hand", "right_hand"}))
		Expect(cfg.Sinks.File.Enabled).To(BeFalse())
		Expect(cfg.Sinks.SQLite.Enabled).To(BeTrue())
		Expect(cfg.Writer.BatchSize).To(Equal(uint(12)))
		Expect(cfg.Episode.TaskID).To(Equal("wipe"))
	})

	It("returns error for invalid values", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		v.Set("writer.queue_size", "many")

		_, err = config.FromViper(v)
		Expect(err).To(MatchError(ContainSubstring("writer.queue_size")))
	})
})

var _ = Describe("Watch", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "watch-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("does nothing without a config file", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		Expect(config.Watch(v, zap.NewNop(), func(*config.Config) {})).To(BeFalse())
	})

	It("delivers reloaded config on write", func() {
		path := filepath.Join(tmpDir, "config.toml")
		Expect(os.WriteFile(path, []byte("[writer]\nbatch_size = 4\n"), 0o600)).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		changes := make(chan *config.Config, 4)
		Expect(config.Watch(v, zap.NewNop(), func(c *config.Config) { changes <- c })).To(BeTrue())

		// fsnotify needs a moment to install the watch.
		time.Sleep(100 * time.Millisecond)
		Expect(os.WriteFile(path, []byte("[writer]\nbatch_size = 9\n"), 0o600)).To(Succeed())

		var got *config.Config
		Eventually(changes, 5*time.Second).Should(Receive(&got))
		Expect(got.Writer.BatchSize).To(Equal(uint(9)))
	})
})

var _ = Describe("BindFlags", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "bindflag-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("binds cobra flags to viper keys via registry", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.Flags, config.FlagListen, &listen)

		Expect(cmd.Flags().Set("listen", ":7777")).To(Succeed())
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagListen})

		Expect(v.GetString("api.listen")).To(Equal(":7777"))
	})

	It("falls through to config when flag not set", func() {
		data := `[api]
listen = ":5555"
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.Flags, config.FlagListen, &listen)
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagListen})

		Expect(v.GetString("api.listen")).To(Equal(":5555"))
	})

	It("binds the manipulators list flag", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var flags config.PipelineFlags
		config.AddPipelineFlags(cmd, &flags)

		Expect(cmd.Flags().Set("manipulators", "left_hand,right_hand")).To(Succeed())
		config.BindRegisteredFlags(v, cmd, config.Flags, config.PipelineFlagKeys)

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Episode.Manipulators).To(Equal([]string{"left_hand", "right_hand"}))
	})

	It("skips bindings for nonexistent registry keys", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		config.BindRegisteredFlags(v, cmd, config.FlagSet{}, []string{"nonexistent"})

		Expect(v.GetString("api.listen")).To(Equal(config.NewDefaultConfig().API.Listen))
	})

	It("pulls name, shorthand, defaults and description from the registry", func() {
		cmd := &cobra.Command{Use: "test"}
		var task string
		var batch uint
		var flush bool
		config.AddStringFlag(cmd, config.Flags, config.FlagTask, &task)
		config.AddUintFlag(cmd, config.Flags, config.FlagBatchSize, &batch)
		config.AddBoolFlag(cmd, config.Flags, config.FlagFlushPartial, &flush)

		f := cmd.Flags().Lookup("task")
		Expect(f).NotTo(BeNil())
		Expect(f.Shorthand).To(Equal("t"))
		Expect(f.Usage).To(Equal(config.Flags[config.FlagTask].Description))

		Expect(cmd.Flags().Lookup("batch-size").DefValue).To(Equal("64"))
		Expect(cmd.Flags().Lookup("flush-partial").DefValue).To(Equal("false"))
	})
})
