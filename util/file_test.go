package util_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/netbirdio/qzmanager/util"
)

var _ = Describe("Config file", func() {

	var (
		tmpDir string
	)

	type TestConfig struct {
		SomeMap   map[string]string
		SomeArray []string
		SomeField int
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "qzmanager_util_test_tmp_*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		err := os.RemoveAll(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Config", func() {
		Context("in JSON format", func() {
			It("should be written and read successfully", func() {
				written := &TestConfig{
					SomeMap:   map[string]string{"key1": "value1", "key2": "value2"},
					SomeArray: []string{"value1", "value2"},
					SomeField: 99,
				}

				file := filepath.Join(tmpDir, "nested", "testconfig.json")
				err := util.WriteJson(context.Background(), file, written)
				Expect(err).NotTo(HaveOccurred())

				read, err := util.ReadJson(file, &TestConfig{})
				Expect(err).NotTo(HaveOccurred())
				Expect(read).NotTo(BeNil())
				Expect(read.(*TestConfig).SomeMap).To(Equal(written.SomeMap))
				Expect(read.(*TestConfig).SomeArray).To(ContainElements(written.SomeArray))
				Expect(read.(*TestConfig).SomeField).To(BeEquivalentTo(written.SomeField))
			})

			It("should leave no temp files behind", func() {
				file := filepath.Join(tmpDir, "config.json")
				Expect(util.WriteJson(context.Background(), file, &TestConfig{SomeField: 1})).To(Succeed())
				Expect(util.WriteJson(context.Background(), file, &TestConfig{SomeField: 2})).To(Succeed())

				entries, err := os.ReadDir(tmpDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(1))
			})

			It("should not write when the context is done", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()

				file := filepath.Join(tmpDir, "config.json")
				Expect(util.WriteJson(ctx, file, &TestConfig{})).NotTo(Succeed())
				_, err := os.Stat(file)
				Expect(os.IsNotExist(err)).To(BeTrue())
			})
		})
	})

	Describe("Removing a config file", func() {
		It("should tolerate a missing file", func() {
			Expect(util.RemoveJson(filepath.Join(tmpDir, "missing.json"))).To(Succeed())
		})

		It("should delete an existing file", func() {
			file := filepath.Join(tmpDir, "config.json")
			Expect(util.WriteJson(context.Background(), file, []string{"1"})).To(Succeed())
			Expect(util.RemoveJson(file)).To(Succeed())
			_, err := os.Stat(file)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})
})
