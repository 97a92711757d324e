package util_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/qzmanager/util"
)

var _ = Describe("Logging", func() {
	AfterEach(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	})

	It("should reject an unknown level", func() {
		Expect(util.InitLog("loud", util.ConsoleLog)).NotTo(Succeed())
	})

	It("should write to the rotating file", func() {
		dir, err := os.MkdirTemp("", "qzmanager_log_test_*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		file := filepath.Join(dir, "logs", "client.log")
		Expect(util.InitLog("debug", file)).To(Succeed())
		Expect(log.GetLevel()).To(Equal(log.DebugLevel))

		log.Debugf("hello from the test")

		data, err := os.ReadFile(file)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("hello from the test"))
	})
})
