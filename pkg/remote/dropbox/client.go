package dropbox

import (
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/async"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
)

// Client defines the subset of Dropbox SDK methods used by this backend.
// files.Client from the Dropbox SDK implements it.
type Client interface {
	// ListFolder lists the contents of a folder.
	ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error)

	// ListFolderContinue continues a paginated list operation.
	ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error)

	// DeleteBatch launches a batch delete, possibly as an async job.
	DeleteBatch(arg *files.DeleteBatchArg) (*files.DeleteBatchLaunch, error)

	// DeleteBatchCheck polls an async batch delete job.
	DeleteBatchCheck(arg *async.PollArg) (*files.DeleteBatchJobStatus, error)

	// DeleteV2 deletes a file or folder.
	DeleteV2(arg *files.DeleteArg) (*files.DeleteResult, error)
}
