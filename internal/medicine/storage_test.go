package medicine

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name string
			ref  string
			err  error
		)

		BeforeEach(func() {
			name = "amoxicillin.jpg"
		})

		JustBeforeEach(func() {
			ref, err = storage.Save(name, []byte("label photo"))
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the name as reference", func() {
				Expect(ref).To(Equal(name))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, name)).To(BeAnExistingFile())
			})
		})

		When("the name escapes the directory", func() {
			BeforeEach(func() {
				name = "../escape.jpg"
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid storage reference")))
			})

			It("should not write outside the directory", func() {
				Expect(filepath.Join(filepath.Dir(tmpDir), "escape.jpg")).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("label.png", []byte("png bytes"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the file data", func() {
				data, err := storage.Get("label.png")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("png bytes"))
			})
		})

		When("the file does not exist", func() {
			It("returns the error", func() {
				_, err := storage.Get("nonexistent.jpg")
				Expect(err).To(MatchError(ContainSubstring("reading file")))
			})
		})
	})

	Describe("Delete", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("label.jpg", []byte("data"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove the file from disk", func() {
				Expect(storage.Delete("label.jpg")).To(Succeed())
				Expect(filepath.Join(tmpDir, "label.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the file does not exist", func() {
			It("returns the error", func() {
				Expect(storage.Delete("nonexistent.jpg")).To(MatchError(ContainSubstring("deleting file")))
			})
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			for _, name := range []string{"a_label.jpg", "b_label.png"} {
				_, err := storage.Save(name, []byte("data"))
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(os.Mkdir(filepath.Join(tmpDir, "nested"), 0755)).To(Succeed())
		})

		It("should return the stored files only", func() {
			refs, err := storage.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(refs).To(ConsistOf("a_label.jpg", "b_label.png"))
		})
	})

	Describe("NewLocalStorage", func() {
		It("creates a missing directory", func() {
			path := filepath.Join(GinkgoT().TempDir(), "labels")
			_, err := NewLocalStorage(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(BeADirectory())
		})
	})
})
